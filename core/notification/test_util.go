package notification

import (
	"context"

	"github.com/trezcool/nyumba/core"
	"github.com/trezcool/nyumba/core/user"
)

type serviceMock struct {
	*service
}

// NewServiceMock returns a Service that sends its emails synchronously.
func NewServiceMock(repo Repository, usrSvc user.Service, mailSvc core.EmailService, hub *Hub, logger core.Logger, conf *core.Config) Service {
	return &serviceMock{service: newService(repo, usrSvc, mailSvc, hub, logger, conf)}
}

func (svc *serviceMock) Notify(ctx context.Context, notes ...NewNotification) {
	// run synchronously
	if created := svc.store(ctx, notes); len(created) > 0 {
		svc.email(ctx, created)
	}
}
