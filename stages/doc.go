// Package stages provides the built-in network functions and the
// composite applications assembled from them.
//
// Every stage reads its tuning from the stage environment parameters, with
// "<type>.<name>" taking precedence over "<name>". Per-packet problems are
// counted and logged at debug level; they never stop the pipeline.
//
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
package stages
