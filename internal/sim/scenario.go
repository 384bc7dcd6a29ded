// Package sim replays scripted scenarios against a stepped peripheral: sensor
// frames and bus faults go through a scripted bus, link events and ATT
// requests are injected directly, and every PDU and LED change the device
// produces is captured and checked against the expectations in the script.
package sim

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

var ErrInvalidScenario = errors.New("invalid scenario")

// Scenario is a named list of steps.
type Scenario struct {
	Name  string `yaml:"name"`
	Steps []Step `yaml:"steps"`
}

// Step performs exactly one action.
type Step struct {
	Frame      []uint8       `yaml:"frame,omitempty"`
	BusError   bool          `yaml:"bus_error,omitempty"`
	Connect    *Connect      `yaml:"connect,omitempty"`
	Disconnect *Disconnect   `yaml:"disconnect,omitempty"`
	Advert     string        `yaml:"advert,omitempty"`
	Request    string        `yaml:"request,omitempty"`
	ConnID     uint16        `yaml:"conn_id,omitempty"`
	Expect     HexList       `yaml:"expect,omitempty"`
	LED        *LEDExpect    `yaml:"led,omitempty"`
	Settle     time.Duration `yaml:"settle,omitempty"`
}

type Connect struct {
	ConnID uint16 `yaml:"conn_id"`
	Addr   string `yaml:"addr"`
}

type Disconnect struct {
	ConnID uint16 `yaml:"conn_id"`
	Reason string `yaml:"reason"`
}

// LEDExpect checks the last duty written to a channel ("user" or "status").
type LEDExpect struct {
	Channel string `yaml:"channel"`
	Duty    uint16 `yaml:"duty"`
}

// HexList is a list of hex-encoded PDUs. A scalar is a one-element list and
// an explicit empty sequence expects no output.
type HexList struct {
	Set  bool
	PDUs []string
}

func (h *HexList) UnmarshalYAML(node *yaml.Node) error {
	h.Set = true
	switch node.Kind {
	case yaml.ScalarNode:
		h.PDUs = nil
		if v := normalizeHex(node.Value); v != "" {
			h.PDUs = []string{v}
		}
		return nil
	case yaml.SequenceNode:
		h.PDUs = make([]string, 0, len(node.Content))
		for _, n := range node.Content {
			if n.Kind != yaml.ScalarNode {
				return fmt.Errorf("line %d: expect entries must be hex strings", n.Line)
			}
			h.PDUs = append(h.PDUs, normalizeHex(n.Value))
		}
		return nil
	default:
		return fmt.Errorf("line %d: expect must be a hex string or a list of them", node.Line)
	}
}

func normalizeHex(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), ""))
}

// Kind names the action a step performs.
func (s Step) Kind() string {
	switch {
	case s.Frame != nil:
		return "frame"
	case s.BusError:
		return "bus_error"
	case s.Connect != nil:
		return "connect"
	case s.Disconnect != nil:
		return "disconnect"
	case s.Advert != "":
		return "advert"
	case s.Request != "":
		return "request"
	case s.Expect.Set:
		return "expect"
	case s.LED != nil:
		return "led"
	case s.Settle > 0:
		return "settle"
	default:
		return ""
	}
}

func (s Step) actions() int {
	n := 0
	for _, set := range []bool{
		s.Frame != nil, s.BusError, s.Connect != nil, s.Disconnect != nil,
		s.Advert != "", s.Request != "", s.Expect.Set, s.LED != nil, s.Settle > 0,
	} {
		if set {
			n++
		}
	}
	return n
}

// Validate checks that every step carries one well-formed action.
func (sc *Scenario) Validate() error {
	if len(sc.Steps) == 0 {
		return fmt.Errorf("%w: no steps", ErrInvalidScenario)
	}
	for i, s := range sc.Steps {
		if n := s.actions(); n != 1 {
			return fmt.Errorf("%w: step %d has %d actions, want 1", ErrInvalidScenario, i+1, n)
		}
		switch s.Kind() {
		case "frame":
			if len(s.Frame) < 3 {
				return fmt.Errorf("%w: step %d: frame needs 3 values", ErrInvalidScenario, i+1)
			}
		case "request":
			if _, err := hex.DecodeString(normalizeHex(s.Request)); err != nil {
				return fmt.Errorf("%w: step %d: request: %w", ErrInvalidScenario, i+1, err)
			}
		case "expect":
			for _, p := range s.Expect.PDUs {
				if _, err := hex.DecodeString(p); err != nil {
					return fmt.Errorf("%w: step %d: expect: %w", ErrInvalidScenario, i+1, err)
				}
			}
		case "led":
			if _, err := parseChannel(s.LED.Channel); err != nil {
				return fmt.Errorf("%w: step %d: %w", ErrInvalidScenario, i+1, err)
			}
		case "connect":
			if s.Connect.ConnID == 0 {
				return fmt.Errorf("%w: step %d: connect needs a non-zero conn_id", ErrInvalidScenario, i+1)
			}
		}
	}
	return nil
}

// Parse decodes and validates a YAML scenario.
func Parse(data []byte) (*Scenario, error) {
	var sc Scenario
	if err := yaml.Unmarshal(data, &sc); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidScenario, err)
	}
	if err := sc.Validate(); err != nil {
		return nil, err
	}
	return &sc, nil
}

// Load reads a scenario file.
func Load(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario: %w", err)
	}
	sc, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if sc.Name == "" {
		sc.Name = path
	}
	return sc, nil
}
