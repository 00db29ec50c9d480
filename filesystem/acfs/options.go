package acfs

import (
	"io"

	"github.com/sirupsen/logrus"
)

// Config carries the parameters governing Mount and Format (spec §4.E
// "Mount (open)"). ClusterSize and ReservedClusters describe on-medium
// geometry; FormatIfInvalid and EnableCRCCheck govern mount behavior.
type Config struct {
	ClusterSize     uint16
	ReservedClusters uint16 // 0 = auto: max(2, ceil(sizeof(superblock)/S))
	FormatIfInvalid bool
	EnableCRCCheck  bool
	Logger          *logrus.Logger
}

// Option configures a Config, in the functional-option style the teacher
// uses for its own feature flags (ext4's FeatureOpt/With... functions).
type Option func(*Config)

// WithReservedClusters sets R explicitly instead of letting Format
// derive it from the superblock size.
func WithReservedClusters(r uint16) Option {
	return func(c *Config) { c.ReservedClusters = r }
}

// WithFormatIfInvalid makes Mount format the medium in place when the
// existing superblock is missing, corrupt, or geometry-mismatched,
// instead of returning ErrInvalidFilesystem.
func WithFormatIfInvalid(enable bool) Option {
	return func(c *Config) { c.FormatIfInvalid = enable }
}

// WithCRCCheck toggles whether Mount verifies the superblock CRC (spec
// invariant 8). Disabling it is useful only for recovering a filesystem
// whose superblock was partially rewritten; the default is enabled.
func WithCRCCheck(enable bool) Option {
	return func(c *Config) { c.EnableCRCCheck = enable }
}

// WithLogger attaches a structured logger; operations log at Debug and
// integrity faults log at Warn. The default logger discards output.
func WithLogger(logger *logrus.Logger) Option {
	return func(c *Config) { c.Logger = logger }
}

func newConfig(clusterSize uint16, opts ...Option) Config {
	c := Config{
		ClusterSize:    clusterSize,
		EnableCRCCheck: true,
		Logger:         discardLogger(),
	}
	for _, opt := range opts {
		opt(&c)
	}
	if c.Logger == nil {
		c.Logger = discardLogger()
	}
	return c
}

func discardLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}
