package rbac

import (
	"sync/atomic"

	"github.com/mustardtree/portal/pkg/auth"
)

// PolicyHolder publishes the current policy to concurrent readers
type PolicyHolder struct {
	p atomic.Pointer[Policy]
}

func NewPolicyHolder(p Policy) *PolicyHolder {
	h := &PolicyHolder{}
	h.Store(p)
	return h
}

func (h *PolicyHolder) Load() Policy {
	return *h.p.Load()
}

func (h *PolicyHolder) Store(p Policy) {
	h.p.Store(&p)
}

// ResolveRole resolves against the policy current at call time
func (h *PolicyHolder) ResolveRole(id *auth.Identity) auth.Role {
	return h.p.Load().ResolveRole(id)
}
