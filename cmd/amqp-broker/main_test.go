package main

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestValidateAuth(t *testing.T) {
	cases := []struct {
		name    string
		flags   rootFlags
		wantErr bool
	}{
		{"anonymous needs nothing", rootFlags{auth: "anonymous"}, false},
		{"plain without passwords file is rejected", rootFlags{auth: "plain"}, true},
		{"plain with passwords file is accepted", rootFlags{auth: "plain", passwordsFile: "/etc/amqp-broker/passwords"}, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := validateAuth(&tc.flags)
			if tc.wantErr {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestNewRootCmdDefaults(t *testing.T) {
	cmd := newRootCmd()

	host, err := cmd.Flags().GetString("host")
	require.NoError(t, err)
	require.Equal(t, "0.0.0.0", host)

	port, err := cmd.Flags().GetInt("port")
	require.NoError(t, err)
	require.Equal(t, 5672, port)

	auth, err := cmd.Flags().GetString("auth")
	require.NoError(t, err)
	require.Equal(t, "anonymous", auth)

	mechanisms, err := cmd.Flags().GetStringSlice("mechanisms")
	require.NoError(t, err)
	require.Equal(t, []string{"ANONYMOUS"}, mechanisms)

	containerID, err := cmd.Flags().GetString("container-id")
	require.NoError(t, err)
	require.Equal(t, "amqp-broker", containerID)
}
