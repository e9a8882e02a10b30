// Package queryir provides the query intermediate representation (IR)
// shared by the replica's local read emulation and the remote collections.
//
// The IR sits between the wire form of a query (a JSON/YAML map using
// $-prefixed operators) and the backends that evaluate it:
//
//	[query map] → Parse → [Query IR] → querymem (local reads, Memory collection)
//	                                 → querysql (SQL collection)
//	            ← Encode ←
//
// QUERY SHAPE:
//
// A Query carries a filter predicate plus the four result modifiers:
//
//	{
//	  "order": {"$lte": 3.5},            // filter
//	  "$or": [{"done": true}, {...}],     // filter
//	  "$sort": {"order": 1, "name": -1},  // Sort
//	  "$skip": 10,                        // Skip
//	  "$limit": 5,                        // Limit
//	  "$select": ["name"]                 // Select
//	}
//
// Top-level field entries are conjoined. A field entry is either a literal
// (implicit $eq) or an operator map with any of $eq, $ne, $lt, $lte, $gt,
// $gte, $in, $nin.
//
// SEALED INTERFACES:
//
// Predicate is a sealed interface using the marker method pattern. Only
// types in this package implement it, so backends can switch exhaustively:
//
//	switch p := pred.(type) {
//	case Compare:
//	case In:
//	case And:
//	case Or:
//	}
//
// EQUALITY:
//
// Backends compare equality loosely (record.LooseEqual): the remote layer
// may hand back 1001 for "1001". Range operators only match values of the
// same class (number/number, string/string, bool/bool); a missing field
// never satisfies a range comparison.
package queryir
