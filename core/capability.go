package core

import "strings"

// CustodyCapability authorizes transfers out of the custody pool. The service
// holds the only instance for its configured authority and never hands it to
// callers. Transfer backends compare Authority against their own setting.
type CustodyCapability struct {
	authority Identity
	issued    bool
}

func NewCustodyCapability(authority Identity) *CustodyCapability {
	return &CustodyCapability{
		authority: strings.TrimSpace(authority),
		issued:    true,
	}
}

func (c *CustodyCapability) Authority() Identity {
	if c == nil {
		return ""
	}
	return c.authority
}

func (c *CustodyCapability) Valid() bool {
	return c != nil && c.issued && c.authority != ""
}
