package example

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/agiledragon/gomonkey/v2"
	"github.com/stretchr/testify/assert"
	"gorm.io/gorm"

	"github.com/xiaoxuxiansheng/gotxm/example/pkg"
)

func Test_RunDemo(t *testing.T) {
	cfg := &Config{RedisNetwork: "tcp", RedisAddress: "127.0.0.1:6379"}

	tests := []struct {
		name string
		f    func(t *testing.T)
	}{
		{
			name: "dbFailed",
			f: func(t *testing.T) {
				patch := gomonkey.ApplyFunc(pkg.NewDB, func(dsn string, opts ...gorm.Option) (*gorm.DB, error) {
					return nil, errors.New("dial mysql failed")
				})
				defer patch.Reset()

				assert.EqualError(t, RunDemo(context.Background(), cfg), "dial mysql failed")
			},
		},
		{
			name: "migrateFailed",
			f: func(t *testing.T) {
				patch := gomonkey.ApplyFunc(pkg.NewDB, func(dsn string, opts ...gorm.Option) (*gorm.DB, error) {
					return &gorm.DB{}, nil
				})
				defer patch.Reset()
				patch.ApplyMethod(reflect.TypeOf(&gorm.DB{}), "AutoMigrate", func(_ *gorm.DB, dst ...interface{}) error {
					return errors.New("create table failed")
				})

				assert.EqualError(t, RunDemo(context.Background(), cfg), "create table failed")
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, tt.f)
	}
}
