package modules

import (
	"fmt"
	"sync"

	"github.com/funvibe/runevm/internal/vm"
)

var initNativePackagesOnce sync.Once

// InitNativePackages registers all standard packages.
// Safe to call multiple times; initialization is performed once.
func InitNativePackages() {
	initNativePackagesOnce.Do(func() {
		initStdPackage()
		initIntPackage()
		initFloatPackage()
		initCharPackage()
		initStringPackage()
		initVecPackage()
		initTuplePackage()
		initObjectPackage()
		initBytesPackage()
		initOptionPackage()
		initResultPackage()
		initFuturePackage()
		initGeneratorPackage()
		initTimePackage()
	})
}

// Install adds the named packages to ctx, or every standard package when
// no name is given.
func Install(ctx *vm.Context, names ...string) error {
	InitNativePackages()
	if len(names) == 0 {
		names = PackageNames()
	}
	for _, name := range names {
		pkg, ok := nativePackages[name]
		if !ok {
			return fmt.Errorf("unknown native package %s", name)
		}
		if err := pkg.install(ctx); err != nil {
			return fmt.Errorf("installing %s: %w", name, err)
		}
	}
	return nil
}

// NewContext returns a Context with the whole standard library installed.
func NewContext() (*vm.Context, error) {
	ctx := vm.NewContext()
	if err := Install(ctx); err != nil {
		return nil, err
	}
	return ctx, nil
}
