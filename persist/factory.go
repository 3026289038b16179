package persist

import (
	"fmt"
)

// StoreConfig selects and configures a storage backend.
type StoreConfig struct {
	// Type specifies the storage backend, "filesystem" or "s3".
	Type StoreType `mapstructure:"type" yaml:"type" json:"type"`

	// BasePath is the root directory for the filesystem backend.
	BasePath string `mapstructure:"base_path" yaml:"base_path" json:"base_path,omitempty"`

	// S3 holds the settings for the s3 backend.
	S3 S3Config `mapstructure:"s3" yaml:"s3" json:"s3,omitempty"`
}

// NewStore creates the storage backend named by config.Type.
func NewStore(config StoreConfig) (Store, error) {
	switch config.Type {
	case StoreTypeFileSystem:
		if config.BasePath == "" {
			return nil, fmt.Errorf("filesystem storage requires 'base_path' in config")
		}
		return NewFileSystemStore(config.BasePath)

	case StoreTypeS3:
		return NewS3Store(config.S3)

	default:
		return nil, fmt.Errorf("unsupported store type: %s", config.Type)
	}
}
