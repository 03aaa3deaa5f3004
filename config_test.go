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
	"path/filepath"
	"strings"
	"testing"
)

func TestDefaultConfigValid(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatal(err)
	}
	if !cfg.Columnar || !cfg.Entropy || !cfg.Delta || !cfg.Checksum {
		t.Errorf("defaults: %+v", cfg)
	}
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "flux.yaml")
	body := "columnar: false\nlevel: 2\nmax_dict_size: 1000\n"
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatal(err)
	}
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Columnar || cfg.Level != 2 || cfg.MaxDictSize != 1000 {
		t.Errorf("loaded: %+v", cfg)
	}
	// unset fields keep their defaults
	if !cfg.Entropy || !cfg.Checksum {
		t.Errorf("defaults lost: %+v", cfg)
	}
}

func TestValidateCollectsEverything(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Level = 9
	cfg.MaxDictSize = -1
	cfg.MaxFrameSize = 0
	err := cfg.Validate()
	if err == nil {
		t.Fatal("invalid config accepted")
	}
	// all three problems are reported at once
	for _, want := range []string{"level", "max_dict_size", "max_frame_size"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q misses %q", err, want)
		}
	}
}

func TestErrorCodes(t *testing.T) {
	err := Errorf(ErrChecksumMismatch, "crc %#x", 1)
	if CodeOf(err) != ErrChecksumMismatch {
		t.Fatalf("code = %v", CodeOf(err))
	}
	if CodeOf(nil) != ErrOK {
		t.Fatal("nil error has a code")
	}
	if ErrStateDesync.String() != "STATE_DESYNC" {
		t.Fatalf("name = %s", ErrStateDesync)
	}
}
