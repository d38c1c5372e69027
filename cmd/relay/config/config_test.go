package configcmder_test

import (
	"bytes"
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	configcmder "github.com/papercomputeco/relay/cmd/relay/config"
	"github.com/papercomputeco/relay/pkg/config"
)

var _ = Describe("NewConfigCmd", func() {
	It("creates a command with the correct use string", func() {
		cmd := configcmder.NewConfigCmd()
		Expect(cmd.Use).To(Equal("config"))
	})

	It("has set, get, and list subcommands", func() {
		cmd := configcmder.NewConfigCmd()
		cmds := cmd.Commands()
		subcommands := make([]string, 0, len(cmds))
		for _, sub := range cmds {
			subcommands = append(subcommands, sub.Name())
		}
		Expect(subcommands).To(ContainElements("set", "get", "list"))
	})
})

var _ = Describe("Config command execution", func() {
	var (
		tmpDir  string
		origDir string
		out     *bytes.Buffer
	)

	run := func(args ...string) error {
		cmd := configcmder.NewConfigCmd()
		cmd.SetOut(out)
		cmd.SetErr(out)
		cmd.SetArgs(args)
		return cmd.Execute()
	}

	BeforeEach(func() {
		var err error
		tmpDir, err = os.MkdirTemp("", "relay-config-test-*")
		Expect(err).NotTo(HaveOccurred())

		origDir, err = os.Getwd()
		Expect(err).NotTo(HaveOccurred())

		// Create a local .relay dir so the manager picks it up
		err = os.MkdirAll(filepath.Join(tmpDir, ".relay"), 0o755)
		Expect(err).NotTo(HaveOccurred())

		err = os.Chdir(tmpDir)
		Expect(err).NotTo(HaveOccurred())

		out = &bytes.Buffer{}
	})

	AfterEach(func() {
		err := os.Chdir(origDir)
		Expect(err).NotTo(HaveOccurred())
		os.RemoveAll(tmpDir)
	})

	Describe("set subcommand", func() {
		It("sets a config value successfully", func() {
			Expect(run("set", "relay.pacing", "25ms")).To(Succeed())

			cfger, err := config.NewConfiger("")
			Expect(err).NotTo(HaveOccurred())
			Expect(cfger.GetTarget()).To(Equal(filepath.Join(tmpDir, ".relay", "config.toml")))

			value, err := cfger.GetConfigValue("relay.pacing")
			Expect(err).NotTo(HaveOccurred())
			Expect(value).To(Equal("25ms"))
		})

		It("rejects unknown keys", func() {
			Expect(run("set", "invalid_key", "value")).NotTo(Succeed())
		})

		It("requires exactly two arguments", func() {
			Expect(run("set", "relay.pacing")).NotTo(Succeed())
		})

		It("rejects zero arguments", func() {
			Expect(run("set")).NotTo(Succeed())
		})

		It("rejects invalid durations", func() {
			Expect(run("set", "relay.pacing", "soon")).NotTo(Succeed())
			_, err := os.Stat(filepath.Join(tmpDir, ".relay", "config.toml"))
			Expect(os.IsNotExist(err)).To(BeTrue())
		})

		It("rejects invalid uint values", func() {
			Expect(run("set", "relay.guest_quota", "not-a-number")).NotTo(Succeed())
		})

		It("masks secret values in its output", func() {
			Expect(run("set", "upstream.api_key", "sk-or-v1-abcdefgh1234")).To(Succeed())
			Expect(out.String()).NotTo(ContainSubstring("sk-or-v1-abcdefgh1234"))
			Expect(out.String()).To(ContainSubstring("1234"))
		})
	})

	Describe("get subcommand", func() {
		It("gets a previously set value", func() {
			Expect(run("set", "upstream.url", "http://localhost:11434/v1/chat/completions")).To(Succeed())

			out.Reset()
			Expect(run("get", "upstream.url")).To(Succeed())
			Expect(out.String()).To(ContainSubstring("http://localhost:11434/v1/chat/completions"))
		})

		It("shows defaults for unset keys", func() {
			Expect(run("get", "relay.pacing")).To(Succeed())
			Expect(out.String()).To(ContainSubstring("10ms"))
		})

		It("masks secret values", func() {
			Expect(run("set", "storage.postgres_dsn", "postgres://relay:hunter2@db/relay")).To(Succeed())

			out.Reset()
			Expect(run("get", "storage.postgres_dsn")).To(Succeed())
			Expect(out.String()).NotTo(ContainSubstring("hunter2"))
		})

		It("rejects unknown keys", func() {
			Expect(run("get", "invalid_key")).NotTo(Succeed())
		})

		It("requires exactly one argument", func() {
			Expect(run("get")).NotTo(Succeed())
		})
	})

	Describe("list subcommand", func() {
		It("runs without error when no config exists", func() {
			Expect(run("list")).To(Succeed())
			Expect(out.String()).To(ContainSubstring("No config file found"))
		})

		It("lists every key with its value", func() {
			Expect(run("set", "relay.guest_quota", "5")).To(Succeed())

			out.Reset()
			Expect(run("list")).To(Succeed())
			for _, key := range config.ValidConfigKeys() {
				Expect(out.String()).To(ContainSubstring(key))
			}
			Expect(out.String()).To(ContainSubstring(`"5"`))
		})

		It("masks secret values", func() {
			Expect(run("set", "upstream.api_key", "sk-or-v1-abcdefgh1234")).To(Succeed())

			out.Reset()
			Expect(run("list")).To(Succeed())
			Expect(out.String()).NotTo(ContainSubstring("sk-or-v1-abcdefgh1234"))
		})

		It("rejects any arguments", func() {
			Expect(run("list", "extra")).NotTo(Succeed())
		})
	})
})
