// Package config defines the format-agnostic run configuration model.
// Format-specific loaders (see internal/hclconf) translate their syntax
// into this model at startup; nothing downstream depends on the on-disk
// configuration format.
package config
