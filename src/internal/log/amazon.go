package log

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go/aws"
	"go.uber.org/zap"
)

type amazon struct {
	l *zap.Logger
}

// Log implements aws.Logger.
func (a *amazon) Log(args ...any) {
	a.l.Debug(fmt.Sprint(args...))
}

var _ aws.Logger = new(amazon)

// NewAmazonLogger returns an aws.Logger that logs to ctx's logger at level debug.
func NewAmazonLogger(ctx context.Context) aws.Logger {
	return &amazon{l: extractLogger(ctx).Named("aws").WithOptions(zap.AddCallerSkip(1))}
}
