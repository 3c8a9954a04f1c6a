package storage

import (
	"context"
	"errors"
	"io"
	"os"

	"github.com/devrelay/devrelay/lib/util/logger"
	"github.com/samber/oops"
	"gopkg.in/yaml.v3"
)

// Fixture is the YAML document accepted by Seed.
//
//	tenants:
//	  - id: 1
//	    name: Acme Corp
//	devices:
//	  - deviceId: IOS-0001
//	    platform: ios
//	    tenantId: 1
type Fixture struct {
	Tenants []Tenant `yaml:"tenants"`
	Devices []Device `yaml:"devices"`
}

// LoadFixture decodes a fixture document.
func LoadFixture(r io.Reader) (Fixture, error) {
	var f Fixture
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil && !errors.Is(err, io.EOF) {
		return Fixture{}, oops.Wrapf(err, "decode fixture")
	}
	return f, nil
}

// Seed loads the fixture at path into store. Records that already exist
// are skipped, so seeding the same file twice is harmless.
func Seed(ctx context.Context, store Store, path string) error {
	fh, err := os.Open(path)
	if err != nil {
		return oops.Wrapf(err, "open fixture %s", path)
	}
	defer fh.Close()

	f, err := LoadFixture(fh)
	if err != nil {
		return oops.Wrapf(err, "fixture %s", path)
	}
	return Apply(ctx, store, f)
}

// Apply writes the records of f into store, tenants first.
func Apply(ctx context.Context, store Store, f Fixture) error {
	var created, skipped int
	for _, t := range f.Tenants {
		if _, err := store.CreateTenant(ctx, t); err != nil {
			if errors.Is(err, ErrDuplicate) {
				skipped++
				continue
			}
			return oops.Wrapf(err, "seed tenant %q", t.Name)
		}
		created++
	}
	for _, d := range f.Devices {
		if _, err := store.CreateDevice(ctx, d); err != nil {
			if errors.Is(err, ErrDuplicate) {
				skipped++
				continue
			}
			return oops.Wrapf(err, "seed device %q", d.DeviceID)
		}
		created++
	}

	log.WithFields(logger.Fields{
		"at":      "storage.Apply",
		"created": created,
		"skipped": skipped,
	}).Info("fixture_applied")
	return nil
}
