// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package agent

import (
	"context"
	"fmt"

	"github.com/kadirpekel/agentcore/pkg/mcp"
	"github.com/kadirpekel/agentcore/pkg/mcp/httptransport"
	"github.com/kadirpekel/agentcore/pkg/mcp/pool"
	"github.com/kadirpekel/agentcore/pkg/mcp/stdiotransport"
	"github.com/kadirpekel/agentcore/pkg/mcpauth"
)

// DefaultConnector builds a pool.Connector that dispatches on a handle's
// transport kind: HTTP handles get an httptransport.Transport with auth
// re-resolved on every request via auth.Injector; STDIO handles get a
// stdiotransport.Transport and ignore auth entirely (spec §4.5). This is
// the composition-root wiring the spec's connection pool (§4.4) assumes
// but leaves to the embedding application.
func DefaultConnector(auth *mcpauth.Manager) pool.Connector {
	return func(ctx context.Context, h *mcp.Handle) (mcp.Transport, error) {
		switch h.Transport {
		case mcp.TransportHTTP:
			return httptransport.New(h.URL, auth.Injector(h)), nil
		case mcp.TransportStdio:
			if h.Stdio == nil {
				return nil, fmt.Errorf("agent: stdio handle %q has no stdio target configured", h.ID)
			}
			return stdiotransport.New(ctx, h.Stdio.Command, h.Stdio.Args, h.Stdio.Env)
		default:
			return nil, fmt.Errorf("agent: handle %q has unknown transport %q", h.ID, h.Transport)
		}
	}
}
