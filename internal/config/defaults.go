package config

// DefaultIndexFile is the artifact file name used when storage.index_path is unset.
const DefaultIndexFile = "search_index.bin"

// ApplyDefaults sets default values for any zero values in cfg.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Storage.DatabasePath == "" {
		cfg.Storage.DatabasePath = "/usr/local/var/shashin/data/db/images.db"
	}
	if cfg.Model.Provider == "" {
		cfg.Model.Provider = "onnx"
	}
	if cfg.Model.ImageModelPath == "" {
		cfg.Model.ImageModelPath = "/usr/local/var/shashin/data/models/clip_image_model.onnx"
	}
	if cfg.Model.TextModelPath == "" {
		cfg.Model.TextModelPath = "/usr/local/var/shashin/data/models/clip_text_model.onnx"
	}
	if cfg.Model.TokenizerDir == "" {
		cfg.Model.TokenizerDir = "/usr/local/var/shashin/data/models/tokenizer"
	}
	if cfg.Model.TokenizerRemote == "" {
		cfg.Model.TokenizerRemote = "https://huggingface.co/openai/clip-vit-base-patch32/resolve/main"
	}
	if cfg.Model.Dimensions == 0 {
		cfg.Model.Dimensions = 512
	}
	if cfg.Model.ContextLength == 0 {
		cfg.Model.ContextLength = 77
	}
	if cfg.Model.ImageSize == 0 {
		cfg.Model.ImageSize = 224
	}
	if cfg.Model.Preprocess == "" {
		cfg.Model.Preprocess = "resize"
	}
	if cfg.Model.CacheSize == 0 {
		cfg.Model.CacheSize = 1000
	}
	if cfg.Model.ImageInput == "" {
		cfg.Model.ImageInput = "pixel_values"
	}
	if cfg.Model.ImageOutput == "" {
		cfg.Model.ImageOutput = "image_embeds"
	}
	if len(cfg.Model.TextInputs) == 0 {
		cfg.Model.TextInputs = []string{"input_ids", "attention_mask"}
	}
	if cfg.Model.TextOutput == "" {
		cfg.Model.TextOutput = "text_embeds"
	}
	if cfg.Index.Type == "" {
		cfg.Index.Type = "flat"
	}
	if cfg.Search.DefaultLimit == 0 {
		cfg.Search.DefaultLimit = 50
	}
	if cfg.Search.MaxLimit == 0 {
		cfg.Search.MaxLimit = 500
	}
	if cfg.Indexer.ProgressEvery == 0 {
		cfg.Indexer.ProgressEvery = 10
	}
}
