// Package file provides the TOML config file behind driven.ConfigStore.
//
// The file lives at ~/.invoice-etl/config.toml unless another directory is
// given. Tables map to dotted keys:
//
//	[run]
//	workers = 4
//
// is read as "run.workers".
package file
