package guard_test

import (
	"errors"
	"fmt"
	"time"

	"github.com/voxflow/voxflow/pkg/service"
	"github.com/voxflow/voxflow/pkg/service/guard"
)

func ExampleBreaker() {
	br := guard.NewBreaker(guard.Config{Name: "stt", Threshold: 2})

	for i := 0; i < 3; i++ {
		err := br.Do(func() error { return errors.New("timeout") })
		fmt.Println(err)
	}
	// Output:
	// timeout
	// timeout
	// service breaker is open
}

// Decorating a vendor client before handing it to the transcription stage:
// while the backend is down the stage sees [guard.ErrOpen] immediately as a
// recoverable error instead of stalling the session.
func ExampleNewTranscriber() {
	var vendor service.Transcriber // a vendor speech-to-text client

	guarded := guard.NewTranscriber(vendor, guard.Config{
		Threshold: 3,
		Cooldown:  10 * time.Second,
	})

	_ = guarded // pass to stages.NewTranscriber in place of the raw client
}
