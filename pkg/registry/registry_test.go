package registry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

// TestRegisterAndResolve verifies a registered constructor is the one that
// builds the resolved instance.
func TestRegisterAndResolve(t *testing.T) {
	r := New()

	err := r.Register("widget", func(ctx context.Context, args ...any) (any, error) {
		return "built-widget", nil
	})
	require.NoError(t, err)

	instance, err := r.Resolve(context.Background(), "widget")
	require.NoError(t, err)
	assert.Equal(t, "built-widget", instance)
}

// TestResolveUnknownTag verifies resolution of an unregistered tag fails
// loudly instead of returning a fallback.
func TestResolveUnknownTag(t *testing.T) {
	r := New()

	instance, err := r.Resolve(context.Background(), "missing")
	assert.Nil(t, instance)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnknownTag)
	assert.Contains(t, err.Error(), "missing")
}

// TestRegisterDuplicateTag verifies the second registration fails and the
// original binding stays intact.
func TestRegisterDuplicateTag(t *testing.T) {
	r := New()

	require.NoError(t, r.Register("dup", func(ctx context.Context, args ...any) (any, error) {
		return "original", nil
	}))

	err := r.Register("dup", func(ctx context.Context, args ...any) (any, error) {
		return "replacement", nil
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDuplicateTag)

	instance, err := r.Resolve(context.Background(), "dup")
	require.NoError(t, err)
	assert.Equal(t, "original", instance, "original binding should survive a failed re-registration")
}

// TestRegisterNilConstructor verifies a nil constructor is rejected.
func TestRegisterNilConstructor(t *testing.T) {
	r := New()

	err := r.Register("nil", nil)
	assert.Error(t, err)
	assert.Equal(t, 0, r.Len())
}

// TestConstructorErrorPropagates verifies constructor failures reach the
// caller unchanged.
func TestConstructorErrorPropagates(t *testing.T) {
	r := New()
	boom := errors.New("gateway unreachable")

	require.NoError(t, r.Register("gateway", func(ctx context.Context, args ...any) (any, error) {
		return nil, boom
	}))

	instance, err := r.Resolve(context.Background(), "gateway")
	assert.Nil(t, instance)
	assert.ErrorIs(t, err, boom)
}

// TestConstructorReceivesArgs verifies arguments flow through Resolve into
// the constructor.
func TestConstructorReceivesArgs(t *testing.T) {
	r := New()

	require.NoError(t, r.Register("greeter", func(ctx context.Context, args ...any) (any, error) {
		return fmt.Sprintf("hello %v", args[0]), nil
	}))

	instance, err := r.Resolve(context.Background(), "greeter", "world")
	require.NoError(t, err)
	assert.Equal(t, "hello world", instance)
}

// notifier is the variant contract for the channel scenario.
type notifier interface {
	Send(message string) string
}

type emailNotifier struct{}

func (emailNotifier) Send(message string) string { return "sent via email" }

type smsNotifier struct{}

func (smsNotifier) Send(message string) string { return "sent via sms" }

// TestNotifierChannels verifies the email/sms dispatch scenario: registered
// channels resolve to working variants, an unregistered one is an error.
func TestNotifierChannels(t *testing.T) {
	r := New()

	require.NoError(t, r.Register("email", func(ctx context.Context, args ...any) (any, error) {
		return emailNotifier{}, nil
	}))
	require.NoError(t, r.Register("sms", func(ctx context.Context, args ...any) (any, error) {
		return smsNotifier{}, nil
	}))

	instance, err := r.Resolve(context.Background(), "email")
	require.NoError(t, err)
	assert.Equal(t, "sent via email", instance.(notifier).Send("hi"))

	_, err = r.Resolve(context.Background(), "push")
	assert.ErrorIs(t, err, ErrUnknownTag)
}

// TestTagsSnapshot verifies Tags returns a sorted snapshot.
func TestTagsSnapshot(t *testing.T) {
	r := New()
	for _, tag := range []Tag{"c", "a", "b"} {
		tag := tag
		require.NoError(t, r.Register(tag, func(ctx context.Context, args ...any) (any, error) {
			return tag, nil
		}))
	}

	assert.Equal(t, []Tag{"a", "b", "c"}, r.Tags())
	assert.Equal(t, 3, r.Len())
}

// TestConcurrentResolve verifies resolution is safe under concurrent
// callers while registration continues.
func TestConcurrentResolve(t *testing.T) {
	r := New()
	require.NoError(t, r.Register("shared", func(ctx context.Context, args ...any) (any, error) {
		return 42, nil
	}))

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()

			instance, err := r.Resolve(context.Background(), "shared")
			assert.NoError(t, err)
			assert.Equal(t, 42, instance)

			// Interleave registrations of fresh tags.
			_ = r.Register(Tag(fmt.Sprintf("tag-%d", i)), func(ctx context.Context, args ...any) (any, error) {
				return i, nil
			})
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 51, r.Len())
}

// TestRegistryProperties checks registry invariants over random tag sets:
// every registered tag resolves to exactly its own constructor's product,
// and re-registration always fails.
func TestRegistryProperties(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		r := New()
		tags := rapid.SliceOfNDistinct(rapid.StringMatching(`[a-z]{1,8}`), 1, 20, rapid.ID[string]).Draw(rt, "tags")

		for i, tag := range tags {
			value := i
			if err := r.Register(Tag(tag), func(ctx context.Context, args ...any) (any, error) {
				return value, nil
			}); err != nil {
				rt.Fatalf("registering %q: %v", tag, err)
			}
		}

		for i, tag := range tags {
			instance, err := r.Resolve(context.Background(), Tag(tag))
			if err != nil {
				rt.Fatalf("resolving %q: %v", tag, err)
			}
			if instance != i {
				rt.Fatalf("tag %q resolved to %v, want %d", tag, instance, i)
			}

			if err := r.Register(Tag(tag), func(ctx context.Context, args ...any) (any, error) {
				return nil, nil
			}); !errors.Is(err, ErrDuplicateTag) {
				rt.Fatalf("re-registering %q: got %v, want ErrDuplicateTag", tag, err)
			}
		}

		if r.Len() != len(tags) {
			rt.Fatalf("registry has %d tags, want %d", r.Len(), len(tags))
		}
	})
}
