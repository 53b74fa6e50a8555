package driver

import "context"

// Noop is a Driver that always succeeds immediately: the default binding
// for resources that declare no external collaborator (used in tests and
// for purely declarative resources like a "volatile" flag file).
type Noop struct {
	KindName string
}

func (d *Noop) Kind() string { return d.KindName }

func (d *Noop) Start(ctx context.Context) error        { return nil }
func (d *Noop) Stop(ctx context.Context) error         { return nil }
func (d *Noop) Provision(ctx context.Context) error     { return nil }
func (d *Noop) Unprovision(ctx context.Context) error   { return nil }
