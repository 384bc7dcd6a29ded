package main

import (
	"strings"

	"github.com/srg/blecap/internal/testutils"
)

func (s *CommandTestSuite) TestDB_JSON() {
	// GOAL: Verify --json prints the attribute table keyed by handle
	//
	// TEST SCENARIO: Dump the default database → device name and CCCD entries match

	out, err := s.ExecuteCommand("db", "--json")
	s.Require().NoError(err, "db MUST succeed")

	testutils.NewJSONAsserter(s.T()).Assert(out, `{
		"0x0001": {"type": "1800", "perm": "r", "max_len": 2, "value": "0018"},
		"0x0003": {"type": "2a00", "perm": "r", "max_len": 32, "value": "43617053656e736520427269646765"},
		"0x000a": {"type": "2902", "perm": "rw", "max_len": 2, "value": "0000"},
		"0x000c": {"type": "0003caa100001000800000805f9b0131", "perm": "rw", "max_len": 1, "value": "00"}
	}`)
}

func (s *CommandTestSuite) TestDB_JSONKeepsHandleOrder() {
	// GOAL: Verify JSON keys come out in handle order
	//
	// TEST SCENARIO: Dump the table → keys appear 0x0001 through 0x000d in sequence

	out, err := s.ExecuteCommand("db", "--json")
	s.Require().NoError(err, "db MUST succeed")

	last := -1
	for _, key := range []string{`"0x0001"`, `"0x0005"`, `"0x0009"`, `"0x000d"`} {
		idx := strings.Index(out, key)
		s.Require().GreaterOrEqual(idx, 0, "%s MUST be present", key)
		s.Greater(idx, last, "%s MUST follow the previous handle", key)
		last = idx
	}
}

func (s *CommandTestSuite) TestDB_Table() {
	// GOAL: Verify the plain table lists every attribute with a readable name
	//
	// TEST SCENARIO: Print without color → header plus thirteen rows with SIG and CapSense names

	out, err := s.ExecuteCommand("db", "--no-color")
	s.Require().NoError(err, "db MUST succeed")

	lines := strings.Split(strings.TrimSpace(out), "\n")
	s.Require().Len(lines, 14, "table MUST have a header and one row per attribute")
	s.Equal([]string{"HANDLE", "TYPE", "NAME", "PERM", "MAX", "VALUE"}, strings.Fields(lines[0]))
	s.Contains(lines[3], "Device Name")
	s.Contains(lines[10], "Client Characteristic Configuration")
	s.Contains(lines[9], "CapSense Button")
	s.True(strings.HasPrefix(lines[12], "0x000C"), "slider value MUST be on row 12")
	s.Contains(lines[12], "CapSense Slider")
}

func (s *CommandTestSuite) TestDB_DeviceNameFromConfig() {
	// GOAL: Verify the configured device name lands in the database
	//
	// TEST SCENARIO: Load a config naming the device "Bench Rig" → handle 0x0003 carries it

	out, err := s.ExecuteCommand("db", "--json", "--config", "testdata/debug.yaml")
	s.Require().NoError(err, "db MUST succeed")

	testutils.NewJSONAsserter(s.T()).Assert(out, `{
		"0x0003": {"value": "42656e636820526967"}
	}`)
}
