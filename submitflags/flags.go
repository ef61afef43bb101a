// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package submitflags provides flag support for use by dmlc job
// submission command line applications.
package submitflags

import (
	"flag"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/grailbio/base/cmdutil"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/status"
	"github.com/grailbio/tracker/environ"
	"github.com/grailbio/tracker/exec"
)

var (
	mu        sync.Mutex
	providers = map[string]func() Provider{} // protected by mu
	profiles  = map[string]string{}          // protected by mu
)

// Provider represents a cluster backend that can be configured by
// setting some set of options via Set.
type Provider interface {
	// Name returns the name of the cluster.
	Name() string
	// Set sets an option, specified as key=val.
	Set(string) error
	// ExecOption returns the exec.Option that configures a session
	// to submit jobs to the cluster as configured by the currently
	// set options.
	ExecOption() exec.Option
}

// RegisterClusterProvider registers a cluster provider. NewProvider
// returns a fresh, unconfigured provider.
func RegisterClusterProvider(name string, newProvider func() Provider) {
	mu.Lock()
	defer mu.Unlock()
	if _, present := providers[name]; present {
		log.Panicf("cluster %s is already registered", name)
	}
	providers[name] = newProvider
}

// RegisterClusterProfile registers a cluster 'profile', which is a
// named shorthand for a cluster and any associated options. For
// example an application that registers a profile of:
//   submitflags.RegisterClusterProfile("lab", "ssh:host-file=/etc/lab-hosts")
// can accept
//   -cluster=lab
// as a synonym for
//   -cluster=ssh:host-file=/etc/lab-hosts
func RegisterClusterProfile(name, profile string) {
	mu.Lock()
	defer mu.Unlock()
	if _, present := providers[name]; present {
		log.Panicf("profile %s is already used as a provider name", name)
	}
	if _, present := profiles[name]; present {
		log.Panicf("profile %s is already registered", name)
	}
	profiles[name] = profile
}

// ProvidersAndProfiles returns the supported providers and profiles.
func ProvidersAndProfiles() ([]string, map[string]string) {
	mu.Lock()
	defer mu.Unlock()
	prv := make([]string, 0, len(providers))
	for k := range providers {
		prv = append(prv, k)
	}
	sort.Strings(prv)
	prf := make(map[string]string, len(profiles))
	for k, v := range profiles {
		prf[k] = v
	}
	return prv, prf
}

// keyval splits an option in key=val format.
func keyval(v string) (key, val string, err error) {
	parts := strings.SplitN(v, "=", 2)
	if len(parts) != 2 {
		return "", "", fmt.Errorf("not in key=val format %q", v)
	}
	return parts[0], parts[1], nil
}

func atoi(key, val string) (int, error) {
	i, err := strconv.Atoi(val)
	if err != nil || i < 0 {
		return 0, fmt.Errorf("%s: not a nonnegative int: %v", key, val)
	}
	return i, nil
}

// Local runs tasks as local processes.
type Local struct{}

// Name implements Provider.Name.
func (*Local) Name() string { return "local" }

// Set implements Provider.Set.
func (*Local) Set(_ string) error {
	return fmt.Errorf("the local cluster does not support any configuration")
}

// ExecOption implements Provider.ExecOption.
func (*Local) ExecOption() exec.Option { return exec.Local }

// SSH runs tasks on the hosts of a host file.
type SSH struct {
	exec.SSHConfig
}

// Name implements Provider.Name.
func (*SSH) Name() string { return "ssh" }

// Set implements Provider.Set.
func (s *SSH) Set(v string) error {
	key, val, err := keyval(v)
	if err != nil {
		return err
	}
	switch key {
	case "host-file":
		s.HostFile = val
	case "sync-dst-dir":
		s.SyncDir = val
	default:
		return fmt.Errorf("unsupported option: %v", key)
	}
	return nil
}

// ExecOption implements Provider.ExecOption.
func (s *SSH) ExecOption() exec.Option { return exec.SSH(s.SSHConfig) }

// MPI submits jobs through mpirun.
type MPI struct {
	exec.MPIConfig
}

// Name implements Provider.Name.
func (*MPI) Name() string { return "mpi" }

// Set implements Provider.Set.
func (m *MPI) Set(v string) error {
	key, val, err := keyval(v)
	if err != nil {
		return err
	}
	switch key {
	case "host-file":
		m.HostFile = val
	case "version":
		if val != exec.OpenMPI && val != exec.MPICH {
			return fmt.Errorf("unsupported MPI version: %v", val)
		}
		m.Version = val
	default:
		return fmt.Errorf("unsupported option: %v", key)
	}
	return nil
}

// ExecOption implements Provider.ExecOption.
func (m *MPI) ExecOption() exec.Option { return exec.MPI(m.MPIConfig) }

// SGE submits jobs to Sun Grid Engine.
type SGE struct {
	exec.SGEConfig
}

// Name implements Provider.Name.
func (*SGE) Name() string { return "sge" }

// Set implements Provider.Set.
func (s *SGE) Set(v string) error {
	key, val, err := keyval(v)
	if err != nil {
		return err
	}
	switch key {
	case "queue":
		s.Queue = val
	case "jobname":
		s.JobName = val
	case "logdir":
		s.LogDir = val
	case "vcores":
		s.VCores, err = atoi(key, val)
	default:
		return fmt.Errorf("unsupported option: %v", key)
	}
	return err
}

// ExecOption implements Provider.ExecOption.
func (s *SGE) ExecOption() exec.Option { return exec.SGE(s.SGEConfig) }

// YARN submits jobs as YARN applications.
type YARN struct {
	exec.YARNConfig
}

// Name implements Provider.Name.
func (*YARN) Name() string { return "yarn" }

// Set implements Provider.Set.
func (y *YARN) Set(v string) error {
	key, val, err := keyval(v)
	if err != nil {
		return err
	}
	switch key {
	case "hadoop-binary":
		y.HadoopBinary = val
	case "jar":
		y.Jar = val
	case "boot-script":
		y.BootScript = val
	case "queue":
		y.Queue = val
	case "jobname":
		y.JobName = val
	case "tempdir":
		y.TempDir = val
	case "vcores":
		y.VCores, err = atoi(key, val)
	case "memory-mb":
		y.MemoryMB, err = atoi(key, val)
	case "libhdfs-opts":
		y.LibHDFSOpts = val
	case "files":
		y.Files = append(y.Files, val)
	case "file-cache":
		var cache bool
		cache, err = strconv.ParseBool(val)
		y.NoFileCache = !cache
	default:
		return fmt.Errorf("unsupported option: %v", key)
	}
	return err
}

// ExecOption implements Provider.ExecOption.
func (y *YARN) ExecOption() exec.Option { return exec.YARN(y.YARNConfig) }

// Slurm submits jobs through srun.
type Slurm struct {
	exec.SlurmConfig
}

// Name implements Provider.Name.
func (*Slurm) Name() string { return "slurm" }

// Set implements Provider.Set.
func (s *Slurm) Set(v string) error {
	key, val, err := keyval(v)
	if err != nil {
		return err
	}
	switch key {
	case "worker-nodes":
		s.WorkerNodes, err = atoi(key, val)
	case "server-nodes":
		s.ServerNodes, err = atoi(key, val)
	default:
		return fmt.Errorf("unsupported option: %v", key)
	}
	return err
}

// ExecOption implements Provider.ExecOption.
func (s *Slurm) ExecOption() exec.Option { return exec.Slurm(s.SlurmConfig) }

func init() {
	RegisterClusterProvider("local", func() Provider { return new(Local) })
	RegisterClusterProvider("ssh", func() Provider { return new(SSH) })
	RegisterClusterProvider("mpi", func() Provider { return new(MPI) })
	RegisterClusterProvider("sge", func() Provider { return new(SGE) })
	RegisterClusterProvider("yarn", func() Provider { return new(YARN) })
	RegisterClusterProvider("slurm", func() Provider { return new(Slurm) })
}

// ClusterHelpShort is a short explanation of the allowed ClusterFlag values.
func ClusterHelpShort(prefix string) string {
	const format = `a cluster is specified as follows: {local,ssh,mpi,sge,yarn,slurm}[:key=val,...], use -%s for more information.`
	return fmt.Sprintf(format, prefix+"cluster-help")
}

// ClusterHelpLong is a complete explanation of the allowed ClusterFlag values.
const ClusterHelpLong = `A cluster is specified as follows:

<cluster-type>:<options> where options is [key=value,]+

The currently supported clusters and their options are as follows:

local: tasks run as local processes, the default.
ssh: tasks run on remote hosts over ssh. The supported options are:
	host-file=<path> - the host file, one ip[:port] per line
	sync-dst-dir=<dir> - if set, the working directory is synchronized
		to this directory on every host before launch
mpi: tasks are started by mpirun. The supported options are:
	host-file=<path> - the mpirun host file
	version=<openmpi|mpich> - the MPI implementation; detected by default
sge: tasks are submitted as a Sun Grid Engine array job. The supported options are:
	queue=<queue>, jobname=<name>, logdir=<dir>, vcores=<number>
yarn: tasks are submitted as a YARN application. The supported options are:
	hadoop-binary=<path>, jar=<path>, boot-script=<path>, queue=<queue>,
	jobname=<name>, tempdir=<hdfs dir>, vcores=<number>, memory-mb=<number>,
	libhdfs-opts=<opts>, files=<file#file...>, file-cache=<bool>
slurm: tasks are started by srun. The supported options are:
	worker-nodes=<number>, server-nodes=<number>

In addition, an application may register 'profiles' that are shorthand
for the above, eg. "lab" can be configured as a synonym for
ssh:host-file=/etc/lab-hosts.
`

// ClusterFlag represents a flag that can be used to specify a cluster.
type ClusterFlag struct {
	Provider  Provider
	Options   []string
	Specified bool
}

// String implements flag.Value.String
func (c *ClusterFlag) String() string {
	if c.Provider == nil {
		return ""
	}
	if len(c.Options) == 0 {
		return c.Provider.Name()
	}
	return fmt.Sprintf("%v:%v", c.Provider.Name(), strings.Join(c.Options, ","))
}

// Set implements flag.Value.Set
func (c *ClusterFlag) Set(v string) error {
	parse := func(s string) (name string, options []string) {
		parts := strings.SplitN(s, ":", 2)
		name = parts[0]
		if len(parts) > 1 {
			options = strings.Split(parts[1], ",")
		}
		return
	}

	name, options := parse(v)
	mu.Lock()
	if profile, ok := profiles[name]; ok {
		var profileOptions []string
		name, profileOptions = parse(profile)
		options = append(profileOptions, options...)
	}
	newProvider, ok := providers[name]
	mu.Unlock()
	if !ok {
		return fmt.Errorf("unsupported cluster or profile type: %v", name)
	}
	provider := newProvider()
	for _, opt := range options {
		if err := provider.Set(opt); err != nil {
			return err
		}
	}
	c.Options = options
	c.Provider = provider
	c.Specified = true
	return nil
}

// Get implements flag.Value.Get
func (c *ClusterFlag) Get() interface{} {
	return c.String()
}

// Flags represents all of the flags that can be used to configure
// a dmlc submission command.
type Flags struct {
	Cluster       ClusterFlag
	ClusterHelp   bool
	NumWorkers    int
	NumServers    int
	Env           string
	EnvWorker     string
	EnvServer     string
	EnvMode       string
	MaxRetry      int
	Parallelism   int
	HTTPAddress   cmdutil.NetworkAddressFlag
	ConsoleStatus bool
	TracePath     string
	fs            *flag.FlagSet
}

// Output returns an appropriate io.Writer for printing out help/usage
// messages as per the underlying flag.Flagset.
func (f *Flags) Output() io.Writer {
	if f.fs == nil {
		return os.Stderr
	}
	if wr := f.fs.Output(); wr != nil {
		return wr
	}
	return os.Stderr
}

// Defaults represents default values for the supported flags.
type Defaults struct {
	Cluster       string
	HTTPAddress   string
	ConsoleStatus bool
	EnvMode       string
}

// RegisterFlags registers the submission command line flags with the
// supplied flag set. The flag names will be prefixed with the supplied
// prefix.
func RegisterFlags(fs *flag.FlagSet, f *Flags, prefix string) {
	RegisterFlagsWithDefaults(fs, f, prefix, Defaults{
		Cluster:       "local",
		ConsoleStatus: false,
	})
}

// RegisterFlagsWithDefaults registers the submission command line
// flags with the supplied flag set and defaults. The flag names will
// be prefixed with the supplied prefix.
func RegisterFlagsWithDefaults(fs *flag.FlagSet, f *Flags, prefix string, defaults Defaults) {
	fs.Var(&f.Cluster, prefix+"cluster", ClusterHelpShort(prefix))
	if err := f.Cluster.Set(defaults.Cluster); err != nil {
		log.Panicf("default cluster %s: %v", defaults.Cluster, err)
	}
	f.Cluster.Specified = false
	fs.Var(&f.HTTPAddress, prefix+"http", "address of http status server; no server is started if empty")
	if defaults.HTTPAddress != "" {
		f.HTTPAddress.Set(defaults.HTTPAddress)
		f.HTTPAddress.Specified = false
	}
	fs.BoolVar(&f.ConsoleStatus, prefix+"console-status", defaults.ConsoleStatus, "print status to stdout")
	fs.BoolVar(&f.ClusterHelp, prefix+"cluster-help", false, "provide help on cluster providers and profiles")
	fs.IntVar(&f.NumWorkers, prefix+"num-workers", 0, "number of worker tasks")
	fs.IntVar(&f.NumServers, prefix+"num-servers", 0, "number of server tasks")
	fs.StringVar(&f.Env, prefix+"env", "", "comma-separated names of variables that must be set and are passed to every task")
	fs.StringVar(&f.EnvWorker, prefix+"env-worker", "", "comma-separated key=value pairs exported to worker tasks")
	fs.StringVar(&f.EnvServer, prefix+"env-server", "", "comma-separated key=value pairs exported to server tasks")
	fs.StringVar(&f.EnvMode, prefix+"env-mode", defaults.EnvMode, "how the task environment is drawn from this process: allowlist or inherit; defaults to the cluster's")
	fs.IntVar(&f.MaxRetry, prefix+"max-retry", 0, "number of times a failed task is retried; a DMLC_MAX_RETRY=n token in the command takes precedence")
	fs.IntVar(&f.Parallelism, prefix+"parallelism", 0, "maximum number of concurrent local tasks, 0 is unlimited")
	fs.StringVar(&f.TracePath, prefix+"trace", "", "path to which a task trace is written on completion")
	f.fs = fs
}

// validate checks the task counts and retry budget.
func (f *Flags) validate() error {
	if f.NumWorkers < 0 || f.NumServers < 0 {
		return fmt.Errorf("task counts must be nonnegative: workers %d, servers %d", f.NumWorkers, f.NumServers)
	}
	if f.NumWorkers+f.NumServers == 0 {
		return fmt.Errorf("no tasks requested: set -num-workers or -num-servers")
	}
	if f.MaxRetry < 0 {
		return fmt.Errorf("-max-retry must be nonnegative")
	}
	return nil
}

// ExecOptions parses the flag values and returns a slice of exec.Options
// that represent the actions specified by those flags.
func (f *Flags) ExecOptions() ([]exec.Option, error) {
	if err := f.validate(); err != nil {
		return nil, err
	}
	scopes := environ.DefaultScopes()
	scopes.User = environ.ParseNames(f.Env)
	var err error
	if scopes.Worker, err = environ.ParsePairs(f.EnvWorker); err != nil {
		return nil, err
	}
	if scopes.Server, err = environ.ParsePairs(f.EnvServer); err != nil {
		return nil, err
	}
	var submitStatus status.Status
	options := []exec.Option{
		exec.Status(&submitStatus),
		f.Cluster.Provider.ExecOption(),
		exec.Env(scopes),
		exec.MaxRetry(f.MaxRetry),
	}
	if f.EnvMode != "" {
		mode, err := environ.ParseMode(f.EnvMode)
		if err != nil {
			return nil, err
		}
		options = append(options, exec.EnvMode(mode))
	}
	if f.Parallelism > 0 {
		options = append(options, exec.Parallelism(f.Parallelism))
	}
	if f.TracePath != "" {
		options = append(options, exec.TracePath(f.TracePath))
	}
	return options, nil
}
