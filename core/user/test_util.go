package user

import (
	"context"

	"github.com/trezcool/nyumba/core"
)

type serviceMock struct {
	*service
}

// NewServiceMock returns a Service that sends its emails synchronously.
func NewServiceMock(db core.DB, repo Repository, mailSvc core.EmailService, conf *core.Config) Service {
	return &serviceMock{
		service: NewService(db, repo, mailSvc, conf).(*service),
	}
}

func (svc *serviceMock) RequestPasswordReset(ctx context.Context, email string) error {
	usr, err := svc.GetByEmail(ctx, email)
	if err != nil {
		return err
	}
	if !usr.IsActive {
		return ErrNotFound
	}
	// run synchronously
	svc.sendPasswordResetMail(usr)
	return nil
}
