package authcore_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/MrEthical07/authcore"
	"github.com/MrEthical07/authcore/password"
	"github.com/MrEthical07/authcore/userstore/memory"
)

// ExampleEngine_Authenticate builds an engine over miniredis and the
// in-memory store and logs a user in.
func ExampleEngine_Authenticate() {
	mr, err := miniredis.Run()
	if err != nil {
		log.Fatal(err)
	}
	defer mr.Close()
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	hasher := password.NewBcrypt(4)
	users, _ := memory.New(hasher)
	_, _ = users.CreateUser(context.Background(), authcore.User{Username: "alice", Active: true}, "correct-horse")

	cfg := authcore.DefaultConfig()
	cfg.JWT.Secret = "example-secret-change-me-0123456789"
	engine, err := authcore.New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithUserStore(users).
		WithPasswordHasher(hasher).
		WithLogger(log.New(io.Discard, "", 0)).
		Build()
	if err != nil {
		log.Fatal(err)
	}
	defer engine.Close()

	_, err = engine.Authenticate(context.Background(), authcore.LoginRequest{Username: "alice", Password: "wrong"})
	fmt.Println(errors.Is(err, authcore.ErrInvalidCredentials), authcore.KindOf(err))

	res, err := engine.Authenticate(context.Background(), authcore.LoginRequest{Username: "alice", Password: "correct-horse"})
	if err != nil {
		log.Fatal(err)
	}
	fmt.Println(res.MfaRequired, engine.ValidateToken(res.AccessToken))
	// Output:
	// true invalid_credentials
	// false true
}

// ExampleKindOf shows how transports classify failures.
func ExampleKindOf() {
	fmt.Println(authcore.KindOf(authcore.ErrAccountLocked))
	fmt.Println(authcore.KindOf(errors.New("redis: connection refused")))
	fmt.Println(authcore.KindOf(nil))
	// Output:
	// account_locked
	// authentication_failed
	// none
}
