package memory

import (
	"testing"

	"github.com/inkwell-hq/inkwell/pkg/storage/test"
)

func TestMemoryDatastore(t *testing.T) {
	test.RunAllTests(t, New())
}
