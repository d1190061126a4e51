package collab

import (
	"encoding/json"
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	"github.com/golang/glog"
)

// HandleError runs `do`, recovering and logging any panic. Optional
// handlers receive the recovered error. Subscriber callbacks and ack
// callbacks are driven through this so that one bad handler cannot take
// down the session loop or its sibling handlers.
func HandleError(do func(), handlers ...func(err error)) (r any) {
	defer func() {
		if r = recover(); r != nil {
			glog.Warningf("Unexpected error: %s\n", errorJson(r, debug.Stack()))
			err, ok := r.(error)
			if !ok {
				err = fmt.Errorf("%s", r)
			}
			for _, handler := range handlers {
				handler(err)
			}
		}
	}()
	do()
	return
}

func errorJson(err any, stack []byte) string {
	stackLines := []string{}
	for _, line := range strings.Split(string(stack), "\n") {
		stackLines = append(stackLines, strings.TrimSpace(line))
	}
	errJson, _ := json.Marshal(map[string]any{
		"error": fmt.Sprintf("%T=%s", err, err),
		"stack": stackLines,
	})
	return string(errJson)
}

func TraceWithReturnError[R any](tag string, do func() (R, error)) (result R, returnErr error) {
	start := time.Now()
	glog.Infof("[%-8s]%s (%d)\n", "start", tag, start.UnixMilli())
	result, returnErr = do()
	end := time.Now()
	millis := float32(end.Sub(start)) / float32(time.Millisecond)
	if returnErr != nil {
		glog.Infof("[%-8s]%s (%.2fms) err = %s\n", "end", tag, millis, returnErr)
	} else {
		glog.Infof("[%-8s]%s (%.2fms)\n", "end", tag, millis)
	}
	return
}
