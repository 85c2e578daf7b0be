package detector

import (
	"fmt"
	"net/http"
	"time"
)

// Detector is a strategy that determines whether the serving engine is still
// alive. A quiet server is not a frozen server, so the serve phase relies on
// detectors rather than output silence unless configured otherwise.
// Implementations must be safe for concurrent use.
type Detector interface {
	// Alive returns true if the engine is detected as running.
	Alive() (bool, error)
	// Describe returns a human-readable description of the detection method.
	Describe() string
}

// PIDDetector detects by OS process id.
type PIDDetector struct{ PID int }

func (d PIDDetector) Alive() (bool, error) { return pidAlive(d.PID), nil }
func (d PIDDetector) Describe() string     { return fmt.Sprintf("pid:%d", d.PID) }

// HTTPDetector probes the engine's HTTP endpoint. Any response, including an
// error status, counts as alive; only a transport failure does not.
type HTTPDetector struct {
	URL     string
	Timeout time.Duration
}

func (d HTTPDetector) Alive() (bool, error) {
	timeout := d.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	client := &http.Client{Timeout: timeout}
	resp, err := client.Get(d.URL)
	if err != nil {
		return false, err
	}
	_ = resp.Body.Close()
	return true, nil
}

func (d HTTPDetector) Describe() string { return "http:" + d.URL }
