package main

import (
	"context"
	"fmt"
	"time"

	"github.com/trezcool/nyumba/core"
)

func (cli *commandLine) generateBills(month time.Time) error {
	bills, err := cli.billSvc.GenerateMonthly(context.Background(), month)
	if err != nil {
		return err
	}
	cli.logger.Info(fmt.Sprintf("%s: %d bills generated", month.Format("2006-01"), len(bills)))
	return nil
}

func (cli *commandLine) applyLateFees() error {
	n, err := cli.billSvc.ApplyLateFees(context.Background(), core.NowFunc())
	if err != nil {
		return err
	}
	cli.logger.Info(fmt.Sprintf("%d late fees charged", n))
	return nil
}
