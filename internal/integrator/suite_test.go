package integrator

import (
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func TestIntegrator(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Integrator Suite")
}
