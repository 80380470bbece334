// Package topology turns a layered pipeline description into initialised
// stage descriptors wired by bounded queues.
//
// Every instance of layer i is connected to every instance of layer i+1
// by its own queue, so adjacent layers with c_i and c_{i+1} instances are
// joined by c_i*c_{i+1} queues. One head queue feeds layer 0 and one tail
// queue collects the last layer.
//
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
package topology
