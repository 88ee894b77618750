package eval

// projectDecl is the on-disk project layout shared by the YAML, HCL and PKL loaders.
type projectDecl struct {
	Name          string          `yaml:"name" hcl:"name" pkl:"name"`
	DefaultTarget string          `yaml:"default_target" hcl:"default_target,optional" pkl:"default_target"`
	Targets       []*targetDecl   `yaml:"targets" hcl:"target,block" pkl:"targets"`
	Models        []*resourceDecl `yaml:"models" hcl:"model,block" pkl:"models"`
	Metrics       []*metricDecl   `yaml:"metrics" hcl:"metric,block" pkl:"metrics"`
	Sources       []*sourceDecl   `yaml:"sources" hcl:"source,block" pkl:"sources"`
	Tests         []*resourceDecl `yaml:"tests" hcl:"test,block" pkl:"tests"`
	Seeds         []*resourceDecl `yaml:"seeds" hcl:"seed,block" pkl:"seeds"`
}

type targetDecl struct {
	Name     string            `yaml:"name" hcl:"name,label" pkl:"name"`
	Adapter  string            `yaml:"adapter" hcl:"adapter,optional" pkl:"adapter"`
	Database string            `yaml:"database" hcl:"database,optional" pkl:"database"`
	Schema   string            `yaml:"schema" hcl:"schema,optional" pkl:"schema"`
	Threads  int               `yaml:"threads" hcl:"threads,optional" pkl:"threads"`
	Options  map[string]string `yaml:"options" hcl:"options,optional" pkl:"options"`
}

// resourceDecl declares a model, test or seed. SQL may be inline or read from File,
// relative to the project directory.
type resourceDecl struct {
	Name      string            `yaml:"name" hcl:"name,label" pkl:"name"`
	Path      string            `yaml:"path" hcl:"path,optional" pkl:"path"`
	SQL       string            `yaml:"sql" hcl:"sql,optional" pkl:"sql"`
	File      string            `yaml:"file" hcl:"file,optional" pkl:"file"`
	Config    map[string]string `yaml:"config" hcl:"config,optional" pkl:"config"`
	Tags      []string          `yaml:"tags" hcl:"tags,optional" pkl:"tags"`
	DependsOn []string          `yaml:"depends_on" hcl:"depends_on,optional" pkl:"depends_on"`
}

type metricDecl struct {
	Name              string            `yaml:"name" hcl:"name,label" pkl:"name"`
	Label             string            `yaml:"label" hcl:"label,optional" pkl:"label"`
	Model             string            `yaml:"model" hcl:"model" pkl:"model"`
	CalculationMethod string            `yaml:"calculation_method" hcl:"calculation_method,optional" pkl:"calculation_method"`
	Expression        string            `yaml:"expression" hcl:"expression" pkl:"expression"`
	Timestamp         string            `yaml:"timestamp" hcl:"timestamp,optional" pkl:"timestamp"`
	TimeGrains        []string          `yaml:"time_grains" hcl:"time_grains,optional" pkl:"time_grains"`
	Config            map[string]string `yaml:"config" hcl:"config,optional" pkl:"config"`
	Tags              []string          `yaml:"tags" hcl:"tags,optional" pkl:"tags"`
}

type sourceDecl struct {
	Name       string            `yaml:"name" hcl:"name,label" pkl:"name"`
	Database   string            `yaml:"database" hcl:"database,optional" pkl:"database"`
	Schema     string            `yaml:"schema" hcl:"schema,optional" pkl:"schema"`
	Identifier string            `yaml:"identifier" hcl:"identifier,optional" pkl:"identifier"`
	Config     map[string]string `yaml:"config" hcl:"config,optional" pkl:"config"`
	Tags       []string          `yaml:"tags" hcl:"tags,optional" pkl:"tags"`
}
