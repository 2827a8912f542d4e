package helpers

import (
	"github.com/ThreeDotsLabs/watermill"
	"github.com/rs/zerolog"
)

// zerologWatermill bridges watermill's logger interface to zerolog.
type zerologWatermill struct {
	logger zerolog.Logger
}

var _ watermill.LoggerAdapter = zerologWatermill{}

// NewWatermill returns a watermill logger writing to logger.
func NewWatermill(logger zerolog.Logger) watermill.LoggerAdapter {
	return zerologWatermill{logger: logger.With().Str("component", "watermill").Logger()}
}

func (z zerologWatermill) Error(msg string, err error, fields watermill.LogFields) {
	z.logger.Error().Err(err).Fields(map[string]interface{}(fields)).Msg(msg)
}

func (z zerologWatermill) Info(msg string, fields watermill.LogFields) {
	z.logger.Info().Fields(map[string]interface{}(fields)).Msg(msg)
}

func (z zerologWatermill) Debug(msg string, fields watermill.LogFields) {
	z.logger.Debug().Fields(map[string]interface{}(fields)).Msg(msg)
}

func (z zerologWatermill) Trace(msg string, fields watermill.LogFields) {
	z.logger.Trace().Fields(map[string]interface{}(fields)).Msg(msg)
}

func (z zerologWatermill) With(fields watermill.LogFields) watermill.LoggerAdapter {
	return zerologWatermill{logger: z.logger.With().Fields(map[string]interface{}(fields)).Logger()}
}
