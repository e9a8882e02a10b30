// Package record provides the value model shared by every other package of
// the replica engine.
//
// A Record is an open-ended mapping of field name to Value. Value is a sealed
// interface implemented only by Null, String, Int, Float, Bool, Array and
// Record, so that every consumer can switch exhaustively over the kinds a
// remote collection is able to deliver.
//
// record imports nothing internal. All other internal packages import record;
// this keeps it the foundational layer with no dependency cycles.
//
// Identity values coming from a remote layer may change representation in
// transit (a numeric id may come back as a string). Identity comparison
// therefore uses LooseEqual, never Go equality.
package record
