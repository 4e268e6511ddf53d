//go:build !windows

package eventsource

import (
	"context"
	"fmt"
	"runtime"

	"github.com/sirupsen/logrus"
)

func newSysmonSource(_, _ string, _ logrus.FieldLogger) (Source, error) {
	return nil, fmt.Errorf("%s source is not supported on %s", KindSysmon, runtime.GOOS)
}

func newETWSource(_ context.Context, _ logrus.FieldLogger) (Source, error) {
	return nil, fmt.Errorf("%s source is not supported on %s", KindETW, runtime.GOOS)
}
