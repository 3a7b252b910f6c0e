// Package cfg decodes the raw per-driver maps found under [cache.drivers.<name>].
package cfg

import (
	"fmt"
	"sort"

	"github.com/mitchellh/mapstructure"
)

// Setter is implemented by driver configs that fill in their own defaults.
type Setter interface {
	ApplyDefaults()
}

// Validator is implemented by driver configs that can reject bad values.
type Validator interface {
	Validate() error
}

func newDecoder(result any, md *mapstructure.Metadata) (*mapstructure.Decoder, error) {
	return mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Metadata:         md,
		Result:           result,
		TagName:          "mapstructure",
		WeaklyTypedInput: true,
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
	})
}

// Decode decodes input into c, then applies defaults and validation when
// c implements Setter or Validator. A nil input decodes to the defaults.
func Decode(input map[string]any, c any) error {
	_, err := decode(input, c)
	return err
}

// DecodeWithUnused is Decode that also reports the keys c did not consume, sorted.
func DecodeWithUnused(input map[string]any, c any) ([]string, error) {
	return decode(input, c)
}

func decode(input map[string]any, c any) ([]string, error) {
	var md mapstructure.Metadata
	decoder, err := newDecoder(c, &md)
	if err != nil {
		return nil, err
	}
	if input == nil {
		input = map[string]any{}
	}
	if err := decoder.Decode(input); err != nil {
		return nil, fmt.Errorf("decode driver config: %w", err)
	}
	if s, ok := c.(Setter); ok {
		s.ApplyDefaults()
	}
	if v, ok := c.(Validator); ok {
		if err := v.Validate(); err != nil {
			return nil, err
		}
	}
	unused := md.Unused
	sort.Strings(unused)
	return unused, nil
}
