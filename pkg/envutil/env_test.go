package envutil

import (
	"errors"
	"testing"

	arcerrors "arcsetup/pkg/errors"
)

func TestLookupTypedValues(t *testing.T) {
	env := FromList([]string{
		DevMode + "=1",
		InsideVM + "=0",
		LcdDensity + "=160",
		ChromeOSUser + "=user@example.com",
		UIScale + "=bogus",
	})

	if v, err := env.Bool(DevMode); err != nil || !v {
		t.Fatalf("Bool(DevMode) = %v, %v", v, err)
	}
	if v, err := env.Bool(InsideVM); err != nil || v {
		t.Fatalf("Bool(InsideVM) = %v, %v", v, err)
	}
	if v, err := env.Int(LcdDensity); err != nil || v != 160 {
		t.Fatalf("Int(LcdDensity) = %v, %v", v, err)
	}
	if v := env.StringOr(ChromeOSUser, ""); v != "user@example.com" {
		t.Fatalf("StringOr = %q", v)
	}
	if _, err := env.Int(UIScale); !errors.Is(err, arcerrors.ErrInvalidEnv) {
		t.Fatalf("Int(UIScale) err = %v, want ErrInvalidEnv", err)
	}
	if _, err := env.String(AndroidDataDir); !errors.Is(err, arcerrors.ErrMissingEnv) {
		t.Fatalf("String(AndroidDataDir) err = %v, want ErrMissingEnv", err)
	}
	if v := env.IntOr(UIScale, 100); v != 100 {
		t.Fatalf("IntOr default = %d", v)
	}
	if v := env.BoolOr(WritableMount, true); !v {
		t.Fatalf("BoolOr default = %v", v)
	}
}
