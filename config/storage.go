package config

import "strings"

// StorageConfig locates the artifact store and the scratch area backends download into.
type StorageConfig struct {
	// Root is the directory holding images/, videos/ and thumbnails/.
	Root string `env:"ROOT" envDefault:"./uploads"`

	// ScratchDir receives uploads and backend downloads before they are stored.
	ScratchDir string `env:"SCRATCH_DIR" envDefault:"./uploads/temp"`

	// PublicPrefix is the URL path the storage root is served under.
	PublicPrefix string `env:"PUBLIC_PREFIX" envDefault:"/uploads"`
}

// Sanitize applies guardrails to storage configuration values.
func (s *StorageConfig) Sanitize() {
	if s.Root = strings.TrimSpace(s.Root); s.Root == "" {
		s.Root = "./uploads"
	}
	if s.ScratchDir = strings.TrimSpace(s.ScratchDir); s.ScratchDir == "" {
		s.ScratchDir = "./uploads/temp"
	}
	s.PublicPrefix = "/" + strings.Trim(strings.TrimSpace(s.PublicPrefix), "/")
	if s.PublicPrefix == "/" {
		s.PublicPrefix = "/uploads"
	}
}
