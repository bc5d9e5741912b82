package identity_test

import (
	"testing"

	"github.com/frahmantamala/ssoflow/pkg/hash"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"golang.org/x/crypto/bcrypt"
)

func TestIdentity(t *testing.T) {
	hash.Cost = bcrypt.MinCost
	RegisterFailHandler(Fail)
	RunSpecs(t, "Identity Suite")
}
