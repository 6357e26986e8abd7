package bthread

import "go.uber.org/zap"

// newLogger builds the zap.SugaredLogger a Runtime logs through. "disabled"
// gets a true no-op logger rather than one merely set to a high level, so a
// hot loop like worker.pushLocal's full-queue retry warning costs nothing when
// logging isn't wanted at all.
func newLogger(level string) (*zap.SugaredLogger, error) {
	if level == "disabled" || level == "" {
		return zap.NewNop().Sugar(), nil
	}

	zcfg := zap.NewProductionConfig()
	if err := zcfg.Level.UnmarshalText([]byte(level)); err != nil {
		return nil, err
	}
	logger, err := zcfg.Build()
	if err != nil {
		return nil, err
	}
	return logger.Sugar(), nil
}
