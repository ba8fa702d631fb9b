// Package pool
// Author: momentics <momentics@gmail.com>
//
// Fixed-capacity packet buffer pools for the hioload-dp data plane.
// A Mempool owns one arena of equally sized elements and recycles their
// indices through a backend (lock-free ring or spinlocked stack). Backend
// operations are resolved through a small integer handle table, never through
// stored function values, so a pool header stays meaningful in every process
// that maps the arena. Registry shares pools per (NUMA node, element size).
package pool
