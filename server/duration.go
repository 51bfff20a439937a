package server

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// seconds accepts a JSON number of seconds or a duration string such as
// "90m". Numeric strings are read as seconds.
type seconds time.Duration

func (s *seconds) UnmarshalJSON(b []byte) error {
	var n float64
	if err := json.Unmarshal(b, &n); err == nil {
		*s = seconds(time.Duration(n * float64(time.Second)))
		return nil
	}
	var str string
	if err := json.Unmarshal(b, &str); err != nil {
		return fmt.Errorf("duration must be seconds or a duration string")
	}
	if n, err := strconv.ParseFloat(str, 64); err == nil {
		*s = seconds(time.Duration(n * float64(time.Second)))
		return nil
	}
	d, err := time.ParseDuration(str)
	if err != nil {
		return fmt.Errorf("duration %q: %w", str, err)
	}
	*s = seconds(d)
	return nil
}

func (s seconds) Duration() time.Duration { return time.Duration(s) }
