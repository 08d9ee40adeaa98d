// Package rate tracks failed login attempts per account and per source IP
// in Redis, and escalates persistent per-account failure into a hard,
// time-boxed lockout. Counters are fixed-window: the TTL is set on the
// first failure in a window and the count resets when it lapses.
package rate
