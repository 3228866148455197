package main

import (
	"context"
	"fmt"

	"github.com/pkg/errors"

	"github.com/trezcool/nyumba/core"
	"github.com/trezcool/nyumba/core/user"
)

// CLI role names; the stored roles carry a trailing colon.
const (
	roleAdmin    = "admin"
	roleLandlord = "landlord"
	roleTenant   = "tenant"
)

var errUnknownRole = errors.New("role must be one of admin, landlord or tenant")

func rolesOf(role string) ([]string, error) {
	switch core.CleanString(role, true /* lower */) {
	case roleAdmin:
		return user.AdminRoles, nil
	case roleLandlord:
		return user.LandlordRoles, nil
	case roleTenant:
		return user.TenantRoles, nil
	}
	return nil, errUnknownRole
}

// addUser updates or creates an active user.User with the given role
func (cli *commandLine) addUser(name, uname, email, pwd, role string) error {
	roles, err := rolesOf(role)
	if err != nil {
		return err
	}

	ctx := context.Background()
	now := core.NowFunc().UTC()
	uname = core.CleanString(uname, true /* lower */)
	email = core.CleanString(email, true /* lower */)
	name = core.CleanString(name)

	usr, err := cli.usrRepo.GetUser(ctx, user.GetFilter{Username: uname})
	found := err == nil
	if err != nil && errors.Cause(err) != user.ErrNotFound {
		return err
	}
	var excluded []user.User
	if found {
		excluded = append(excluded, usr)
	} else {
		usr = user.User{CreatedAt: now}
	}
	if err = cli.usrRepo.CheckUsernameUniqueness(ctx, uname, email, excluded); err != nil {
		return err
	}

	usr.Username = uname
	usr.Email = email
	if name != "" {
		usr.Name = name
	}
	usr.Roles = roles
	usr.IsActive = true
	usr.UpdatedAt = now
	if err = usr.SetPassword(pwd); err != nil {
		return err
	}

	if found {
		_, err = cli.usrRepo.UpdateUser(ctx, usr)
	} else {
		_, err = cli.usrRepo.CreateUser(ctx, usr)
	}
	if err != nil {
		return err
	}
	cli.logger.Info(fmt.Sprintf("%s %q saved", role, uname))
	return nil
}
