package market

import (
	"bytes"
	"encoding/json"
	"strconv"
)

// flexFloat decodes a JSON number that some providers send as a string.
type flexFloat float64

func (f *flexFloat) UnmarshalJSON(b []byte) error {
	b = bytes.Trim(b, `"`)
	if len(b) == 0 || string(b) == "null" {
		*f = 0
		return nil
	}
	v, err := strconv.ParseFloat(string(b), 64)
	if err != nil {
		return err
	}
	*f = flexFloat(v)
	return nil
}

// flexCode decodes a status code sent either as "0" or 0.
type flexCode string

func (c *flexCode) UnmarshalJSON(b []byte) error {
	var n json.Number
	if err := json.Unmarshal(bytes.Trim(b, `"`), &n); err != nil {
		*c = flexCode(bytes.Trim(b, `"`))
		return nil
	}
	*c = flexCode(n.String())
	return nil
}
