// Package version хранит сведения о сборке, которые подставляются через -ldflags:
//
//	go build -ldflags "-X github.com/vladislavdragonenkov/inventory/internal/version.version=v1.2.0"
package version

import (
	"fmt"

	log "github.com/sirupsen/logrus"
)

// ServiceName: имя сервиса в трейсах, логах и Kafka client id.
const ServiceName = "inventory-service"

var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// Build: сведения о текущей сборке.
type Build struct {
	Version string
	Commit  string
	Date    string
}

func Current() Build {
	return Build{Version: version, Commit: commit, Date: date}
}

func GetVersion() string { return version }

func (b Build) String() string {
	return fmt.Sprintf("%s version=%s commit=%s date=%s", ServiceName, b.Version, b.Commit, b.Date)
}

// LogFields добавляется к стартовому сообщению сервиса и утилит.
func (b Build) LogFields() log.Fields {
	return log.Fields{
		"service": ServiceName,
		"version": b.Version,
		"commit":  b.Commit,
		"built":   b.Date,
	}
}

// UserAgent для исходящих HTTP-запросов утилит.
func (b Build) UserAgent() string {
	return ServiceName + "/" + b.Version
}
