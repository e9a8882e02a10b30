package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"

	"github.com/roach88/replica/internal/config"
	"github.com/roach88/replica/internal/record"
	"github.com/roach88/replica/internal/replica"
	"github.com/roach88/replica/internal/transport"
)

// RecordsPath is where serve exposes the collection.
const RecordsPath = "/records"

// remoteURL picks the --remote flag over the config file.
func remoteURL(flag string, cfg *config.Config) (string, error) {
	if flag != "" {
		return flag, nil
	}
	if cfg.Remote != "" {
		return cfg.Remote, nil
	}
	return "", NewExitError(ExitCommandError, "no remote: pass --remote or set remote in the config file")
}

func dialRemote(ctx context.Context, url string, logger *slog.Logger) (*transport.Client, error) {
	client, err := transport.Dial(ctx, url, transport.WithClientLogger(logger))
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to connect to remote", err)
	}
	return client, nil
}

// parseRecord decodes a JSON object given on the command line.
func parseRecord(data string) (record.Record, error) {
	var rec record.Record
	if err := json.Unmarshal([]byte(data), &rec); err != nil {
		return nil, fmt.Errorf("invalid --data JSON: %w", err)
	}
	return rec, nil
}

// parseIdentity reads an identity argument. JSON scalars keep their type so
// 3 is an Int and "3" a String; anything else is taken as a bare string.
func parseIdentity(arg string) record.Value {
	v, err := record.Unmarshal([]byte(arg))
	if err != nil {
		return record.String(arg)
	}
	switch v.(type) {
	case record.Record, record.Array:
		return record.String(arg)
	}
	return v
}

// printChange writes one broadcast as a JSON line or a text line.
func printChange(w io.Writer, format string, records []record.Record, change replica.Change) error {
	if format == "json" {
		data, err := json.Marshal(struct {
			replica.Change
			Size int `json:"size"`
		}{change, len(records)})
		if err != nil {
			return err
		}
		_, err = fmt.Fprintf(w, "%s\n", data)
		return err
	}

	if change.Record == nil {
		_, err := fmt.Fprintf(w, "%s (%d records)\n", change, len(records))
		return err
	}
	data, err := record.MarshalCanonical(change.Record)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "%s %s (%d records)\n", change, data, len(records))
	return err
}

// printRecords writes records one canonical JSON object per line.
func printRecords(w io.Writer, records []record.Record) error {
	for _, r := range records {
		data, err := record.MarshalCanonical(r)
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintf(w, "%s\n", data); err != nil {
			return err
		}
	}
	return nil
}
