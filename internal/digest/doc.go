// Package digest provides the digest primitive used by the search loop:
// fixed size digests, leading zero counting and a registry of compute
// modules (digest engines) that can be loaded by path or name.
//
//go:generate mockgen -destination=mock_digest/mock_engine.go -package=mock_digest github.com/screa/zerobits-miner/internal/digest Engine
package digest
