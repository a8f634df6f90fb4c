/*
Copyright 2020 Google LLC

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package sampler

import (
	"context"
	"sync"
	"time"

	"k8s.io/klog/v2"
)

// Run calls Update every interval until ctx is done or the source detaches.
func (s *Sampler) Run(ctx context.Context, interval time.Duration) error {
	t := time.NewTicker(interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			s.Update()
			if s.Detached() {
				return nil
			}
		}
	}
}

// Loop drives a Sampler from a background goroutine.
type Loop struct {
	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once
}

// Start begins sampling every interval in the background.
func (s *Sampler) Start(interval time.Duration) *Loop {
	ctx, cancel := context.WithCancel(context.Background())
	l := &Loop{cancel: cancel}

	klog.V(1).Infof("sampler: sampling every %s", interval)
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		_ = s.Run(ctx, interval)
	}()
	return l
}

// Stop ends sampling and waits for an in-flight update to finish.
func (l *Loop) Stop() {
	l.once.Do(func() {
		l.cancel()
		l.wg.Wait()
	})
}
