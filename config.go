// Copyright (C) 2023 Fluxproto, Inc.
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

package flux

import (
	"os"

	"github.com/hashicorp/go-multierror"
	"sigs.k8s.io/yaml"
)

// Config is the per-session configuration.
// The zero value is not useful; start from DefaultConfig.
type Config struct {
	// Columnar gates the columnar transform for
	// homogeneous arrays of objects.
	Columnar bool `json:"columnar"`
	// Entropy gates the entropy-coding stage.
	Entropy bool `json:"entropy"`
	// Delta permits delta messages in stream sessions.
	Delta bool `json:"delta"`
	// Checksum controls emission of the CRC32C trailer.
	Checksum bool `json:"checksum"`
	// MaxDictSize caps the shared string dictionary.
	MaxDictSize int `json:"max_dict_size"`
	// MaxFrameSize caps payload allocation on decode.
	MaxFrameSize int `json:"max_frame_size"`
	// Level is the byte-codec quality dial for raw
	// fallback frames: 0=store, 1=fast, 2=better.
	Level int `json:"level"`
}

// DefaultConfig returns the configuration used by
// sessions created without explicit options.
func DefaultConfig() Config {
	return Config{
		Columnar:     true,
		Entropy:      true,
		Delta:        true,
		Checksum:     true,
		MaxDictSize:  MaxDictSize,
		MaxFrameSize: MaxFrameSize,
		Level:        1,
	}
}

// LoadConfig reads a YAML (or JSON) config file.
// Unset fields keep their defaults.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	buf, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(buf, &cfg); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

// Validate reports every problem with the configuration
// rather than just the first one.
func (c *Config) Validate() error {
	var errs *multierror.Error
	if c.MaxDictSize < 0 || c.MaxDictSize > MaxDictSize {
		errs = multierror.Append(errs, Errorf(ErrBufferOverflow, "max_dict_size %d outside [0, %d]", c.MaxDictSize, MaxDictSize))
	}
	if c.MaxFrameSize <= 0 {
		errs = multierror.Append(errs, Errorf(ErrBufferOverflow, "max_frame_size %d must be positive", c.MaxFrameSize))
	}
	if c.Level < 0 || c.Level > 2 {
		errs = multierror.Append(errs, Errorf(ErrUnsupportedEncoding, "level %d outside [0, 2]", c.Level))
	}
	return errs.ErrorOrNil()
}
