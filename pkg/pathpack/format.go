package pathpack

import (
	"encoding/json"
	"fmt"

	"github.com/tkrennwa/glacier-backup/pkg/util"
)

// Format represents the archive format used for directory candidates.
type Format int

const (
	Tar Format = iota
	TarGz
	TarZst
)

var formatToString = map[Format]string{
	Tar:    "tar",
	TarGz:  "tar.gz",
	TarZst: "tar.zst",
}
var stringToFormat = map[string]Format{}

func init() {
	stringToFormat = util.InvertMap(formatToString)
}

// String returns the string representation of a Format.
func (f Format) String() string {
	if str, ok := formatToString[f]; ok {
		return str
	}
	return fmt.Sprintf("unknown_pack_format(%d)", f)
}

// Extension returns the file extension for the format, including the dot.
func (f Format) Extension() string {
	return "." + f.String()
}

// ParseFormat parses a string and returns the corresponding Format.
func ParseFormat(s string) (Format, error) {
	if format, ok := stringToFormat[s]; ok {
		return format, nil
	}
	return 0, fmt.Errorf("invalid pack format: %q. Must be 'tar', 'tar.gz' or 'tar.zst'", s)
}

// MarshalJSON implements the json.Marshaler interface for Format.
func (f Format) MarshalJSON() ([]byte, error) {
	return json.Marshal(f.String())
}

// UnmarshalJSON implements the json.Unmarshaler interface for Format.
func (f *Format) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("Format should be a string, got %s", data)
	}

	format, err := ParseFormat(s)
	if err != nil {
		return err
	}
	*f = format
	return nil
}
