// Package diabetesml predicts diabetes risk from the BRFSS2015 diabetes
// health-indicator survey.
//
// The module is a batch pipeline built from scikit-learn style estimators on
// gonum matrices. A run loads the CSV export, drops duplicate rows, splits
// 80/20, removes training outliers with an isolation forest, standardizes,
// balances the training set with SMOTE, compares three classifiers and tunes
// the gradient boosted trees with Bayesian optimization.
//
// # Quick Start
//
//	diabetesml run --data diabetes_binary_health_indicators_BRFSS2015.csv --output plots
//
// or from Go:
//
//	cfg := pipeline.DefaultConfig()
//	cfg.DataPath = "diabetes_binary_health_indicators_BRFSS2015.csv.gz"
//	p, err := pipeline.New(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	res, err := p.Run(context.Background())
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(res.Final.WeightedF1, res.Importances[0].Feature)
//
// # Packages
//
//   - dataset: CSV loading (plain, gzip or lz4) and the survey schema
//   - preprocessing: duplicate removal, IQR diagnostics, StandardScaler
//   - sklearn/model_selection: train/test split, stratified k-fold, cross_val_score
//   - sklearn/ensemble: IsolationForest, GradientBoostingClassifier, importance ranking
//   - sklearn/linear_model: LogisticRegression
//   - sklearn/neighbors: k-d tree and KNeighborsClassifier
//   - sklearn/over_sampling: SMOTE
//   - metrics: accuracy, F1, ROC AUC, log loss, classification report, confusion matrix
//   - optimize/bayesopt: Gaussian process Bayesian optimizer
//   - tuning: booster hyperparameter search
//   - pipeline: configuration, metrics and the staged run
//   - report: JSON report, text summary and charts
//   - core/model, core/parallel, core/stats: shared interfaces and helpers
//   - pkg/errors, pkg/log: typed errors and structured logging
//
// Every random component takes an explicit seed, and a run with the same
// configuration and input reproduces the same result regardless of the
// number of workers.
package diabetesml
