package cmn

import "go.uber.org/zap"

// Log is the process-wide structured logger. It defaults to a development
// logger so packages and their tests can log before cmd/pimd calls InitLogging.
var Log = newDefault()

func newDefault() *zap.SugaredLogger {
	l, err := zap.NewDevelopment()
	if err != nil {
		panic(err)
	}
	return l.Sugar()
}

// InitLogging replaces Log with a logger configured for level/encoding, as
// read from the ini config at startup.
func InitLogging(level, encoding string) error {
	cfg := zap.NewProductionConfig()
	cfg.Encoding = encoding
	if encoding == "" {
		cfg.Encoding = "console"
	}
	var lvl zap.AtomicLevel
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = zap.NewAtomicLevelAt(zap.InfoLevel)
	}
	cfg.Level = lvl
	l, err := cfg.Build()
	if err != nil {
		return err
	}
	Log = l.Sugar()
	return nil
}
