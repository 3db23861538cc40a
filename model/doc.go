// Package model defines core types shared by the annbridge packages.
//
// # Identity Types
//
//   - RowID: Host-stable, signed 64-bit identifier for a logical table row
//   - Label: Backend-assigned dense identifier for one stored vector
//
// RowIDs belong to the host; labels belong to the vector backend. The
// bridge package maintains the bijection between the two.
//
// # Data Types
//
//   - Metric: Distance metric name with spelling normalization
//   - Params: Index tuning parameters (dimension, metric, nprobes, refine factor)
//   - Value: Small typed scalar used for extra columns and predicate literals
//   - Schema/Column: Extra scalar columns stored alongside each vector
//   - Batch: Columnar insert batch
package model
