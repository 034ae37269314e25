// Package ir defines the interaction record model shared by every other
// convlog package.
//
// ir imports nothing internal. The history core, the archive and the
// relay all exchange Record values, so keeping ir a leaf avoids cycles.
//
// Key constraints:
//   - NO float types in record bodies - use int64 for numbers
//   - All JSON tags use snake_case
//   - Body values are built from the sealed IRValue set only
//   - Seq is a logical arrival stamp, never a wall-clock reading
package ir
