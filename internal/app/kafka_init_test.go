package app

import (
	"testing"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

func TestNewEventRelay_WithoutBrokers(t *testing.T) {
	logger := log.WithField("test", "kafka")

	for _, brokers := range []string{"", "  ,  "} {
		cfg := DefaultConfig()
		cfg.KafkaBrokers = brokers

		relay, err := newEventRelay(cfg, logger)
		require.NoError(t, err, brokers)
		require.Nil(t, relay, brokers)
	}
}

func TestNewEventRelay_UnreachableBrokers(t *testing.T) {
	cfg := DefaultConfig()
	cfg.KafkaBrokers = "invalid-broker:9999, broker2:9092"

	relay, err := newEventRelay(cfg, log.WithField("test", "kafka"))
	require.Error(t, err)
	require.Nil(t, relay)
}

func TestEventRelay_CloseNil(_ *testing.T) {
	var relay *eventRelay
	relay.close(log.WithField("test", "kafka"))
}
